package engine

// Batch accumulates adds and removes between reshuffle ticks. A name is never
// in both sets: removing a name added in the same batch cancels the add, and
// adding a name marked removed cancels the removal.
//
// Liveness is passed in by the engine, which only changes the live set at
// flush time, so it is constant for the life of a batch.
type Batch struct {
	added   *orderedSet
	removed *orderedSet
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{added: newOrderedSet(), removed: newOrderedSet()}
}

// Add records that name appeared.
func (b *Batch) Add(name string, live bool) {
	if b.removed.delete(name) {
		return
	}
	if !live {
		b.added.add(name)
	}
}

// Remove records that name disappeared.
func (b *Batch) Remove(name string, live bool) {
	if b.added.delete(name) {
		return
	}
	if live {
		b.removed.add(name)
	}
}

// Added returns the pending additions in arrival order.
func (b *Batch) Added() []string { return b.added.list() }

// Removed returns the pending removals in arrival order.
func (b *Batch) Removed() []string { return b.removed.list() }

// Len is the number of pending changes.
func (b *Batch) Len() int { return b.added.len() + b.removed.len() }

// Apply returns images with all additions appended and then all removals
// taken out. images is not modified.
func (b *Batch) Apply(images []string) []string {
	present := make(map[string]struct{}, len(images)+b.added.len())
	out := make([]string, 0, len(images)+b.added.len())
	for _, name := range images {
		present[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range b.added.list() {
		if _, ok := present[name]; !ok {
			present[name] = struct{}{}
			out = append(out, name)
		}
	}
	if b.removed.len() == 0 {
		return out
	}
	kept := out[:0]
	for _, name := range out {
		if !b.removed.has(name) {
			kept = append(kept, name)
		}
	}
	return kept
}

// Reset empties the batch.
func (b *Batch) Reset() {
	b.added = newOrderedSet()
	b.removed = newOrderedSet()
}

type orderedSet struct {
	index map[string]int
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]int)}
}

func (s *orderedSet) add(name string) {
	if _, ok := s.index[name]; ok {
		return
	}
	s.index[name] = len(s.items)
	s.items = append(s.items, name)
}

func (s *orderedSet) delete(name string) bool {
	i, ok := s.index[name]
	if !ok {
		return false
	}
	delete(s.index, name)
	s.items = append(s.items[:i], s.items[i+1:]...)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

func (s *orderedSet) has(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *orderedSet) len() int { return len(s.items) }

func (s *orderedSet) list() []string { return append([]string(nil), s.items...) }
