package story

import "math"

// Word frequency data for entropy estimation. Common words get low entropy;
// words absent from the table are assumed rare.

const (
	// unknownWordEntropy is assigned to words not in the frequency table.
	unknownWordEntropy = 16.0
	// minWordEntropy floors any single word's contribution.
	minWordEntropy = 1.0
	// maxWordEntropy caps the frequency-based contribution.
	maxWordEntropy = 20.0
)

// wordRanks maps common English words to an approximate frequency rank
// (lower = more common). The set skews toward narrative vocabulary, since
// that is what pass stories are made of.
var wordRanks = map[string]uint32{
	"the": 1, "be": 2, "to": 3, "of": 4, "and": 5,
	"a": 6, "in": 7, "that": 8, "have": 9, "i": 10,
	"it": 11, "for": 12, "not": 13, "on": 14, "with": 15,
	"he": 16, "as": 17, "you": 18, "do": 19, "at": 20,
	"this": 21, "but": 22, "his": 23, "by": 24, "from": 25,
	"they": 26, "we": 27, "say": 28, "her": 29, "she": 30,
	"or": 31, "an": 32, "will": 33, "my": 34, "one": 35,
	"all": 36, "would": 37, "there": 38, "their": 39, "what": 40,
	"up": 41, "out": 42, "if": 43, "about": 44, "who": 45,
	"get": 46, "which": 47, "go": 48, "me": 49, "when": 50,
	"make": 51, "can": 52, "like": 53, "time": 54, "no": 55,
	"just": 56, "him": 57, "know": 58, "take": 59, "people": 60,
	"into": 61, "year": 62, "your": 63, "good": 64, "some": 65,
	"could": 66, "them": 67, "see": 68, "other": 69, "than": 70,
	"then": 71, "now": 72, "look": 73, "only": 74, "come": 75,
	"its": 76, "over": 77, "think": 78, "also": 79, "back": 80,
	"after": 81, "use": 82, "two": 83, "how": 84, "our": 85,
	"work": 86, "first": 87, "well": 88, "way": 89, "even": 90,
	"new": 91, "want": 92, "because": 93, "any": 94, "these": 95,
	"give": 96, "day": 97, "most": 98, "us": 99, "great": 100,
	"life": 101, "man": 102, "world": 103, "hand": 104, "part": 105,
	"child": 106, "eye": 107, "woman": 108, "place": 109, "find": 110,
	"thing": 111, "tell": 112, "night": 113, "home": 114, "head": 115,
	"heart": 116, "old": 117, "big": 118, "long": 119, "high": 120,
	"small": 121, "house": 122, "water": 123, "keep": 124, "body": 125,
	"turn": 126, "face": 127, "door": 128, "name": 129, "room": 130,
	"end": 131, "play": 132, "move": 133, "light": 134, "down": 135,
	"point": 136, "city": 137, "run": 138, "change": 139, "story": 140,
	"father": 141, "mother": 142, "earth": 143, "side": 144, "begin": 145,
	"power": 146, "live": 147, "land": 148, "learn": 149, "school": 150,
	"air": 151, "friend": 152, "family": 153, "love": 154, "road": 155,
	"word": 156, "book": 157, "war": 158, "young": 159, "line": 160,
	"left": 161, "walk": 162, "need": 163, "death": 164, "far": 165,
	"king": 166, "tree": 167, "food": 168, "dark": 169, "fire": 170,
	"fear": 171, "hope": 172, "dream": 173, "mountain": 174, "river": 175,
	"sun": 176, "sea": 177, "star": 178, "sword": 179, "stone": 180,
	"music": 181, "voice": 182, "song": 183, "gold": 184, "wind": 185,
	"sleep": 186, "rain": 187, "white": 188, "black": 189, "red": 190,
	"blood": 191, "garden": 192, "god": 193, "open": 194, "fall": 195,
	"hour": 196, "lost": 197, "true": 198, "force": 199, "ground": 200,
	"shadow": 201, "silence": 202, "darkness": 203, "strength": 204,
	"path": 205, "journey": 206, "spirit": 207, "soul": 208,
	"truth": 209, "wisdom": 210, "courage": 211, "magic": 212,
	"monster": 213, "hero": 214, "guide": 215, "bridge": 216,
	"forest": 217, "tower": 218, "wall": 219, "mirror": 220,
	"dragon": 221, "shield": 222, "armor": 223, "battle": 224,
	"kingdom": 225, "castle": 226, "village": 227, "storm": 228,
	"flame": 229, "ice": 230, "iron": 231, "silver": 232,
	"secret": 233, "treasure": 234, "key": 235, "gate": 236,
	"window": 237, "orphan": 238, "brother": 239, "sister": 240,
	"teacher": 241, "master": 242, "student": 243, "warrior": 244,
	"stranger": 245, "ally": 246, "enemy": 247, "ghost": 248,
	"angel": 249, "devil": 250, "beast": 251, "wolf": 252,
	"bird": 253, "snake": 254, "fish": 255, "horse": 256,
	"cat": 257, "dog": 258, "bear": 259, "lion": 260,
	"ocean": 261, "lake": 262, "island": 263, "desert": 264,
	"sky": 265, "moon": 266, "cloud": 267, "thunder": 268,
	"cave": 269, "dust": 270, "ash": 271, "bone": 272,
	"steel": 273, "glass": 274, "wood": 275, "silk": 276,
	"dance": 278, "sing": 279, "cry": 280,
	"laugh": 281, "smile": 282, "anger": 283, "sorrow": 284,
	"joy": 285, "peace": 286, "pain": 287, "wound": 288,
	"heal": 289, "break": 290, "build": 291, "create": 292,
	"destroy": 293, "remember": 294, "forget": 295, "promise": 296,
	"betray": 297, "trust": 298, "faith": 299, "doubt": 300,
	"compass": 301, "lantern": 302, "candle": 303, "rope": 304,
	"map": 305, "knife": 306, "crown": 307, "ring": 308,
	"chain": 309, "bell": 310, "clock": 311, "wheel": 312,
	"basket": 313, "bread": 314, "wine": 315, "honey": 316,
	"salt": 317, "copper": 318, "bronze": 319, "marble": 320,
	"crystal": 321, "emerald": 322, "ruby": 323, "pearl": 324,
	"diamond": 325, "sapphire": 326, "anchor": 327, "lighthouse": 328,
	"harbor": 329, "tide": 330, "wave": 331, "shore": 332,
	"cliff": 333, "valley": 334, "meadow": 335, "orchard": 336,
	"harvest": 337, "winter": 338, "spring": 339, "summer": 340,
	"autumn": 341, "frost": 342, "snow": 343, "fog": 344,
	"ember": 345, "spark": 346, "blaze": 347, "torch": 348,
	"furnace": 349, "forge": 350, "hammer": 351, "anvil": 352,
	"needle": 353, "thread": 354, "loom": 355, "cloth": 356,
	"ink": 357, "pen": 358, "scroll": 359, "letter": 360,
	"library": 361, "cathedral": 362, "temple": 363, "altar": 364,
	"throne": 365, "scepter": 366, "banner": 367, "flag": 368,
	"drum": 369, "flute": 370, "harp": 371, "violin": 372,
	"piano": 373, "guitar": 374, "trumpet": 375, "whistle": 376,
	"echo": 377, "riddle": 378, "puzzle": 379, "maze": 380,
	"labyrinth": 381, "spiral": 382, "circle": 383, "square": 384,
	"triangle": 385, "arrow": 386, "spear": 387, "bow": 388,
	"dagger": 389, "axe": 390, "helm": 391, "cloak": 392,
	"boots": 393, "gloves": 394, "mask": 395, "veil": 396,
	"boy": 397, "girl": 398, "dreamer": 399, "nobody": 400,
	"fool": 401, "coward": 402, "queen": 403, "healer": 404,
	"leader": 405, "sage": 406, "elder": 407, "wizard": 408,
	"message": 409, "fate": 410, "destiny": 411, "freedom": 412,
	"purpose": 413, "knowledge": 414, "weakness": 415, "pride": 416,
	"shame": 417, "guilt": 418, "loss": 419, "threshold": 420,
	"portal": 421, "unknown": 422, "wilderness": 423, "town": 424,
	"farm": 425, "evil": 426, "nothing": 427, "gem": 428,
	"gift": 429, "weapon": 430, "tool": 431, "memory": 432,
}

// baseEntropy estimates a word's entropy from its frequency rank:
// log2(rank) + 1, clamped to [minWordEntropy, maxWordEntropy]. Unknown
// words get unknownWordEntropy.
func baseEntropy(word string) float64 {
	rank, ok := wordRanks[word]
	if !ok {
		return unknownWordEntropy
	}
	e := math.Log2(float64(rank)) + 1.0
	if e < minWordEntropy {
		return minWordEntropy
	}
	if e > maxWordEntropy {
		return maxWordEntropy
	}
	return e
}

// positionalPenalties lists stage-typed common words that get an entropy
// reduction when they appear at their expected slot. A word that is generic
// anywhere but cliché in its slot is worth less there.
var positionalPenalties = map[int]map[string]float64{
	0: {"darkness": 2.0, "shadow": 2.0, "home": 2.0, "village": 2.0, "city": 2.0, "town": 2.0, "house": 2.0, "farm": 2.0, "world": 2.0},
	1: {"child": 2.0, "boy": 2.0, "girl": 2.0, "dreamer": 2.0, "nobody": 2.0, "stranger": 2.0, "orphan": 2.0, "student": 2.0},
	2: {"stranger": 1.5, "message": 1.5, "letter": 1.5, "dream": 1.5, "voice": 1.5, "fate": 1.5, "destiny": 1.5, "death": 1.5},
	3: {"hope": 1.5, "change": 1.5, "truth": 1.5, "light": 1.5, "knowledge": 1.5, "power": 1.5, "freedom": 1.5, "purpose": 1.5},
	4: {"fear": 2.0, "doubt": 2.0, "weakness": 2.0, "pride": 2.0, "shame": 2.0, "guilt": 2.0, "pain": 2.0, "loss": 2.0, "anger": 2.0},
	5: {"fear": 2.0, "doubt": 2.0, "weakness": 2.0, "pride": 2.0, "shame": 2.0, "guilt": 2.0, "pain": 2.0, "loss": 2.0, "anger": 2.0},
	6: {"door": 2.0, "gate": 2.0, "bridge": 2.0, "path": 2.0, "road": 2.0, "threshold": 2.0, "window": 2.0, "portal": 2.0},
	7: {"darkness": 1.5, "unknown": 1.5, "wilderness": 1.5, "forest": 1.5, "desert": 1.5, "city": 1.5, "light": 1.5, "world": 1.5},
	8: {"teacher": 2.0, "master": 2.0, "wizard": 2.0, "stranger": 2.0, "elder": 2.0, "sage": 2.0, "guide": 2.0, "woman": 2.0, "man": 2.0},
	9: {"truth": 1.5, "path": 1.5, "way": 1.5, "light": 1.5, "strength": 1.5, "power": 1.5, "wisdom": 1.5, "secret": 1.5},
	10: {"sword": 1.0, "shield": 1.0, "weapon": 1.0, "tool": 1.0, "fire": 1.0, "strength": 1.0, "friend": 1.0, "ally": 1.0, "trust": 1.0, "courage": 1.0},
	11: {"sword": 1.0, "shield": 1.0, "weapon": 1.0, "tool": 1.0, "fire": 1.0, "strength": 1.0, "friend": 1.0, "ally": 1.0, "trust": 1.0, "courage": 1.0},
	12: {"sword": 1.0, "shield": 1.0, "weapon": 1.0, "tool": 1.0, "fire": 1.0, "strength": 1.0, "friend": 1.0, "ally": 1.0, "trust": 1.0, "courage": 1.0},
	13: {"sword": 1.5, "shield": 1.5, "heart": 1.5, "hope": 1.5, "faith": 1.5, "trust": 1.5, "courage": 1.5, "spirit": 1.5, "will": 1.5},
	14: {"darkness": 1.5, "death": 1.5, "evil": 1.5, "fear": 1.5, "silence": 1.5, "nothing": 1.5, "stone": 1.5, "truth": 1.5},
	15: {"sword": 1.5, "key": 1.5, "light": 1.5, "crystal": 1.5, "treasure": 1.5, "crown": 1.5, "gem": 1.5, "stone": 1.5, "gift": 1.5},
	16: {"hope": 1.5, "truth": 1.5, "freedom": 1.5, "light": 1.5, "power": 1.5, "peace": 1.5, "love": 1.5, "life": 1.5, "joy": 1.5},
	17: {"light": 1.0, "truth": 1.0, "treasure": 1.0, "knowledge": 1.0, "path": 1.0, "road": 1.0, "darkness": 1.0, "fire": 1.0},
	18: {"light": 1.0, "truth": 1.0, "treasure": 1.0, "knowledge": 1.0, "path": 1.0, "road": 1.0, "darkness": 1.0, "fire": 1.0},
	19: {"child": 1.5, "boy": 1.5, "girl": 1.5, "fool": 1.5, "coward": 1.5, "nobody": 1.5, "stranger": 1.5, "shadow": 1.5},
	20: {"hero": 1.5, "warrior": 1.5, "king": 1.5, "queen": 1.5, "master": 1.5, "healer": 1.5, "leader": 1.5, "sage": 1.5},
	21: {"light": 1.0, "truth": 1.0, "wisdom": 1.0, "hope": 1.0, "love": 1.0, "peace": 1.0, "story": 1.0, "memory": 1.0, "knowledge": 1.0},
	22: {"light": 1.0, "truth": 1.0, "wisdom": 1.0, "hope": 1.0, "love": 1.0, "peace": 1.0, "story": 1.0, "memory": 1.0, "knowledge": 1.0},
}

// positionalEntropy is baseEntropy reduced by the slot-specific penalty,
// floored at minWordEntropy.
func positionalEntropy(word string, slot int) float64 {
	e := baseEntropy(word)
	if penalties, ok := positionalPenalties[slot]; ok {
		e -= penalties[word]
	}
	if e < minWordEntropy {
		return minWordEntropy
	}
	return e
}
