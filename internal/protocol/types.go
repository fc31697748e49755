package protocol

// Content-script message types.
const (
	TypeShow     = "onpage-dialog.show"
	TypeHide     = "onpage-dialog.hide"
	TypeResize   = "onpage-dialog.resize"
	TypeGet      = "onpage-dialog.get"
	TypePing     = "onpage-dialog.ping"
	TypeClose    = "onpage-dialog.close"
	TypeContinue = "onpage-dialog.continue"
)

// Message is the envelope exchanged with the content script. Only the
// fields relevant to Type are set.
type Message struct {
	Type            string   `json:"type"`
	Platform        string   `json:"platform,omitempty"`        // show
	Height          *float64 `json:"height,omitempty"`          // resize
	DisplayDuration *float64 `json:"displayDuration,omitempty"` // ping
}

// ShowMessage tells the content script to render the dialog.
func ShowMessage(platform string) Message {
	return Message{Type: TypeShow, Platform: platform}
}

// HideMessage tells the content script to remove the dialog.
func HideMessage() Message {
	return Message{Type: TypeHide}
}

// LocaleInfo describes the UI locale for dialog rendering.
type LocaleInfo struct {
	Locale    string `json:"locale"`
	Direction string `json:"direction"`
}

// StartInfo answers onpage-dialog.get.
type StartInfo struct {
	Content    any        `json:"content"`
	LocaleInfo LocaleInfo `json:"localeInfo"`
}
