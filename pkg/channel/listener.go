package channel

// Listener handles one named event. Listeners are compared by pointer, so the
// value passed to Off must be the one passed to On.
type Listener struct {
	Handle func(payload []byte)
}

// NewListener wraps fn.
func NewListener(fn func(payload []byte)) *Listener {
	return &Listener{Handle: fn}
}

type listenerSet map[string][]*Listener

func (s listenerSet) add(name string, l *Listener) bool {
	for _, existing := range s[name] {
		if existing == l {
			return false
		}
	}
	s[name] = append(s[name], l)
	return true
}

func (s listenerSet) remove(name string, l *Listener) bool {
	current := s[name]
	for i, existing := range current {
		if existing != l {
			continue
		}
		next := append(current[:i:i], current[i+1:]...)
		if len(next) == 0 {
			delete(s, name)
		} else {
			s[name] = next
		}
		return true
	}
	return false
}

func (s listenerSet) snapshot(name string) []*Listener {
	return append([]*Listener(nil), s[name]...)
}
