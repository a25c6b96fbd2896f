// Package history maintains a full-text index over interface message
// events. The index is a derived view: it can always be rebuilt by
// replaying the event logs.
package history

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"

	"github.com/trumanellis/indranet/internal/core"
)

// Index wraps a bleve index of message events.
type Index struct {
	index bleve.Index
	path  string
}

// Document is the indexed shape of one message.
type Document struct {
	EventID     string `json:"event_id"`
	InterfaceID string `json:"interface_id"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// NewIndex creates or opens the history index under dataDir.
func NewIndex(dataDir string) (*Index, error) {
	indexPath := filepath.Join(dataDir, "history.bleve")

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		mapping := bleve.NewIndexMapping()

		docMapping := bleve.NewDocumentMapping()

		contentField := bleve.NewTextFieldMapping()
		contentField.Analyzer = "standard"
		docMapping.AddFieldMappingsAt("content", contentField)

		ifaceField := bleve.NewTextFieldMapping()
		ifaceField.Analyzer = "keyword"
		docMapping.AddFieldMappingsAt("interface_id", ifaceField)

		senderField := bleve.NewTextFieldMapping()
		senderField.Analyzer = "keyword"
		docMapping.AddFieldMappingsAt("sender", senderField)

		mapping.AddDocumentMapping("message", docMapping)

		idx, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to create history index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open history index: %w", err)
	}

	return &Index{index: idx, path: indexPath}, nil
}

// NewMemoryIndex creates an in-memory index for tests.
func NewMemoryIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

func docID(iface core.InterfaceID, eventID core.EventID) string {
	return iface.Hex() + "/" + eventID.String()
}

// IndexEvent adds a message event to the index. Non-message events are
// skipped silently.
func (i *Index) IndexEvent(iface core.InterfaceID, event *core.InterfaceEvent) error {
	if event.Kind != core.KindMessage || event.ID == nil {
		return nil
	}
	doc := Document{
		EventID:     event.ID.String(),
		InterfaceID: iface.Hex(),
		Sender:      fmt.Sprintf("%x", event.Sender),
		Content:     string(event.Content),
		Timestamp:   event.TimestampMillis,
	}
	return i.index.Index(docID(iface, *event.ID), doc)
}

// Delete removes one message from the index.
func (i *Index) Delete(iface core.InterfaceID, eventID core.EventID) error {
	return i.index.Delete(docID(iface, eventID))
}

// Result is one search hit.
type Result struct {
	ID    string
	Score float64
}

// Search runs a full-text query over message content.
func (i *Index) Search(query string, limit int) ([]Result, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("content")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	if req.Size <= 0 {
		req.Size = 50
	}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, Result{ID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// ByInterface lists indexed messages for one interface.
func (i *Index) ByInterface(iface core.InterfaceID, limit int) ([]Result, error) {
	q := bleve.NewTermQuery(iface.Hex())
	q.SetField("interface_id")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	if req.Size <= 0 {
		req.Size = 100
	}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("history lookup failed: %w", err)
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, Result{ID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// Destroy closes and removes the index from disk.
func (i *Index) Destroy() error {
	i.index.Close()
	if i.path != "" {
		return os.RemoveAll(i.path)
	}
	return nil
}
