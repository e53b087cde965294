package tcp

// Presenter is the presentation layer as seen from the session layer: it
// receives events and never calls back into the loop that produced them.
type Presenter interface {
	OnChat(from, text string)
	OnStatus(line string)
	OnScreenshot(from string, image []byte)
}

// nopPresenter drops every event; used when no presentation layer is attached.
type nopPresenter struct{}

func (nopPresenter) OnChat(string, string)       {}
func (nopPresenter) OnStatus(string)             {}
func (nopPresenter) OnScreenshot(string, []byte) {}
