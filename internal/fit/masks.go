package fit

import "github.com/e7canasta/dentar/internal/inference"

// maskSlot holds the single current segmentation mask.
type maskSlot struct {
	current inference.Mask
}

// swap releases the held mask and keeps m. A nil m keeps the current mask.
func (s *maskSlot) swap(m inference.Mask) {
	if m == nil {
		return
	}
	if s.current != nil && s.current != m {
		inference.Release(s.current)
	}
	s.current = m
}

// release frees the held mask, if any.
func (s *maskSlot) release() {
	inference.Release(s.current)
	s.current = nil
}

func (s *maskSlot) held() bool {
	return s.current != nil
}
