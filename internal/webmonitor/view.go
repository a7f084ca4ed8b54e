package webmonitor

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ViewLogParam is the query parameter that selects the detail view.
const ViewLogParam = "view_log"

// ErrInvalidLogID is returned when view_log is not a record id.
var ErrInvalidLogID = errors.New("invalid log id")

// ViewKind selects which screen the dashboard renders.
type ViewKind int

const (
	ListView ViewKind = iota
	DetailView
)

func (k ViewKind) String() string {
	switch k {
	case ListView:
		return "list"
	case DetailView:
		return "detail"
	default:
		return fmt.Sprintf("ViewKind(%d)", int(k))
	}
}

// ViewState is the dashboard's navigation state. LogID is only meaningful
// in DetailView.
type ViewState struct {
	Kind  ViewKind
	LogID int64
}

// ParseViewState derives the state from query parameters. A missing
// view_log is the list view.
func ParseViewState(q url.Values) (ViewState, error) {
	if !q.Has(ViewLogParam) {
		return ViewState{Kind: ListView}, nil
	}
	raw := strings.TrimSpace(q.Get(ViewLogParam))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ViewState{Kind: ListView}, fmt.Errorf("%w: %q", ErrInvalidLogID, raw)
	}
	return ViewState{Kind: DetailView, LogID: id}, nil
}

// Event is a navigation action.
type Event interface {
	isEvent()
}

// SelectLog opens the detail view of one record.
type SelectLog struct{ ID int64 }

// Back returns to the list view.
type Back struct{}

func (SelectLog) isEvent() {}
func (Back) isEvent()      {}

// Apply returns the state after ev. Events that do not apply to the
// current state leave it unchanged.
func (s ViewState) Apply(ev Event) ViewState {
	switch e := ev.(type) {
	case SelectLog:
		if s.Kind == ListView {
			return ViewState{Kind: DetailView, LogID: e.ID}
		}
	case Back:
		if s.Kind == DetailView {
			return ViewState{Kind: ListView}
		}
	}
	return s
}

// Encode writes the state into q, keeping unrelated parameters.
func (s ViewState) Encode(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	if s.Kind == DetailView {
		out.Set(ViewLogParam, strconv.FormatInt(s.LogID, 10))
	} else {
		out.Del(ViewLogParam)
	}
	return out
}

// URL returns the dashboard link for the state.
func (s ViewState) URL(q url.Values) string {
	enc := s.Encode(q).Encode()
	if enc == "" {
		return "/"
	}
	return "/?" + enc
}
