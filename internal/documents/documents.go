// Package documents holds the per-recipient letters that get matched and
// mailed, keyed by their logical identifier.
package documents

// Document is one letter. ID is the logical name (filename without
// extension, or the label inferred while splitting) and doubles as the
// matching query.
type Document struct {
	ID      string
	Content []byte
}

// Collision records an identifier that was added more than once. The later
// content replaced the earlier one.
type Collision struct {
	ID    string
	Count int
}

// Collection is an insertion-ordered set of documents. Adding an existing ID
// keeps its original position, replaces the content and counts a collision.
type Collection struct {
	order      []string
	byID       map[string]Document
	collisions map[string]int
}

func NewCollection() *Collection {
	return &Collection{
		byID:       make(map[string]Document),
		collisions: make(map[string]int),
	}
}

func (c *Collection) Add(doc Document) {
	if _, exists := c.byID[doc.ID]; exists {
		c.collisions[doc.ID]++
	} else {
		c.order = append(c.order, doc.ID)
	}
	c.byID[doc.ID] = doc
}

func (c *Collection) Get(id string) (Document, bool) {
	doc, ok := c.byID[id]
	return doc, ok
}

func (c *Collection) Len() int {
	return len(c.order)
}

// IDs returns identifiers in first-insertion order.
func (c *Collection) IDs() []string {
	return append([]string(nil), c.order...)
}

// Collisions lists overwritten identifiers in first-insertion order. Count
// is the number of times the identifier was overwritten.
func (c *Collection) Collisions() []Collision {
	var out []Collision
	for _, id := range c.order {
		if n := c.collisions[id]; n > 0 {
			out = append(out, Collision{ID: id, Count: n})
		}
	}
	return out
}
