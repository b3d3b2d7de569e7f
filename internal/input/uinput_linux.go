//go:build linux

package input

import (
	"fmt"

	"github.com/bendahl/uinput"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

// DefaultUinputPath is the uinput control node.
const DefaultUinputPath = "/dev/uinput"

// UinputInjector delivers events through a virtual uinput keyboard. Logical
// key ids are Linux key codes.
type UinputInjector struct {
	path string
	name string
	kbd  uinput.Keyboard
}

// NewUinputInjector creates the virtual keyboard.
func NewUinputInjector(path, name string) (*UinputInjector, error) {
	kbd, err := uinput.CreateKeyboard(path, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	return &UinputInjector{path: path, name: name, kbd: kbd}, nil
}

// Inject sends a key down or up. The uinput keyboard emits its own sync
// report after every key event.
func (u *UinputInjector) Inject(ev keypad.Event) error {
	var err error
	if ev.Type == keypad.EventDown {
		err = u.kbd.KeyDown(int(ev.Key))
	} else {
		err = u.kbd.KeyUp(int(ev.Key))
	}
	if err != nil {
		return fmt.Errorf("inject key 0x%X %s: %w", ev.Key, ev.Type, err)
	}
	return nil
}

// Sync is a no-op; see Inject.
func (u *UinputInjector) Sync() error {
	return nil
}

// SetName re-creates the virtual keyboard under a new name.
func (u *UinputInjector) SetName(name string) error {
	if name == u.name {
		return nil
	}
	kbd, err := uinput.CreateKeyboard(u.path, []byte(name))
	if err != nil {
		return fmt.Errorf("create virtual keyboard %q: %w", name, err)
	}
	old := u.kbd
	u.kbd, u.name = kbd, name
	if err := old.Close(); err != nil {
		return fmt.Errorf("close previous keyboard: %w", err)
	}
	return nil
}

// Name returns the advertised name.
func (u *UinputInjector) Name() string {
	return u.name
}

// Close destroys the virtual keyboard.
func (u *UinputInjector) Close() error {
	return u.kbd.Close()
}
