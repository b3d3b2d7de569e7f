package input

// EV_SW codes of the slide switch.
const (
	SwitchKeypadSlide = 0x0d
	// DefaultTransitionCode is the switch reporting a slide in motion.
	DefaultTransitionCode = 0x10
)

// SlideState is the folded state of the slide switches.
type SlideState struct {
	Open          bool
	Transitioning bool
}

// KeypadEnabled reports whether the keypad should be powered for s.
func (s SlideState) KeypadEnabled() bool {
	return s.Open && !s.Transitioning
}

// Apply folds one EV_SW event into s. It reports false when code is not a
// slide switch.
func (s SlideState) Apply(code, transitionCode uint16, value int32) (SlideState, bool) {
	switch code {
	case SwitchKeypadSlide:
		s.Open = value != 0
	case transitionCode:
		s.Transitioning = value != 0
	default:
		return s, false
	}
	return s, true
}
