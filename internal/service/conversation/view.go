package conversation

import (
	"fmt"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

const (
	placeholderBody = "…"
	editedSuffix    = " (redigerad)"
)

// Control is one button rendered under a conversation message.
type Control string

const (
	ControlPrev Control = "prev"
	ControlNext Control = "next"
	ControlPin  Control = "pin"
	ControlEdit Control = "edit"
)

// Controls lists the buttons of every rendered conversation message.
var Controls = []Control{ControlPrev, ControlNext, ControlPin, ControlEdit}

// View is a transport-neutral rendering of a message.
type View struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Footer    string    `json:"footer,omitempty"`
	Notice    string    `json:"notice,omitempty"`
	Controls  []Control `json:"controls,omitempty"`
	Disabled  bool      `json:"disabled"`
}

// activeView renders the current page of h.
func activeView(h *session.History, enabled bool) View {
	body := ""
	if active, err := h.ActiveChoice(); err == nil {
		body = active.Message
	}
	return View{
		Title:     h.Character.String(),
		Body:      body,
		Thumbnail: h.Character.Avatar,
		Footer:    h.Footer(),
		Controls:  Controls,
		Disabled:  !enabled,
	}
}

// editedView is activeView with the edit marker on the footer.
func editedView(h *session.History) View {
	v := activeView(h, true)
	v.Footer += editedSuffix
	return v
}

// pendingView renders a page that is still being generated. Before the first
// partial the footer only shows the page position.
func pendingView(h *session.History, page int, s stream.Snapshot) View {
	v := View{
		Title:     h.Character.String(),
		Body:      placeholderBody,
		Thumbnail: h.Character.Avatar,
		Footer:    fmt.Sprintf("%d/%d", page+1, len(h.Choices)+1),
		Controls:  Controls,
		Disabled:  true,
	}
	if s.Content != "" {
		v.Body = s.Content
		v.Footer = session.FormatFooter(page+1, len(h.Choices)+1, s.Elapsed, len(s.Content))
	}
	return v
}

// placeholderView is shown for a brand new turn before any fragment arrives.
func placeholderView(h *session.History) View {
	return View{
		Title:     h.Character.String(),
		Body:      placeholderBody,
		Thumbnail: h.Character.Avatar,
		Footer:    "1/1",
		Controls:  Controls,
		Disabled:  true,
	}
}

// pinView is the standalone copy of the active choice.
func pinView(h *session.History) View {
	v := activeView(h, true)
	v.Controls = nil
	v.Disabled = false
	return v
}

// streamingView renders partial content of a brand new turn.
func streamingView(h *session.History, s stream.Snapshot) View {
	v := placeholderView(h)
	v.Body = s.Content
	v.Footer = session.FormatFooter(1, 1, s.Elapsed, len(s.Content))
	return v
}

func withNotice(v View, err error) View {
	v.Notice = err.Error()
	return v
}
