package store

// table keeps rows keyed by id in insertion order.
type table[T any] struct {
	rows  map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

func (t *table[T]) put(id string, v T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = v
}

func (t *table[T]) len() int { return len(t.order) }

// overlay walks base then staged in insertion order, preferring staged values.
// A nil staged table walks base only.
func overlay[T any](base, staged *table[T], fn func(T)) {
	for _, id := range base.order {
		if staged != nil {
			if v, ok := staged.rows[id]; ok {
				fn(v)
				continue
			}
		}
		fn(base.rows[id])
	}
	if staged == nil {
		return
	}
	for _, id := range staged.order {
		if _, ok := base.rows[id]; ok {
			continue
		}
		fn(staged.rows[id])
	}
}

// lookup resolves id in staged first, then base.
func lookup[T any](base, staged *table[T], id string) (T, bool) {
	if staged != nil {
		if v, ok := staged.rows[id]; ok {
			return v, true
		}
	}
	return base.get(id)
}
