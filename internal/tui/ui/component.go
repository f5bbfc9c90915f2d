package ui

// MenuHint is a key shown in the header menu.
type MenuHint struct {
	Key         string
	Description string
}

// Component is a page of the application.
type Component interface {
	Name() string
	// Start runs when the page becomes visible, Stop when it is hidden.
	Start()
	Stop()
	Hints() []MenuHint
}
