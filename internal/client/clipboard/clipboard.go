// Package clipboard models the OS clipboard as a stream of typed change
// events. Platform integrations live outside this module; LineSource and
// ChannelSource cover the CLI and tests.
package clipboard

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
)

// Kind is the payload kind reported by the clipboard.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindFile
	KindRtf
	KindHtml
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindFile:
		return "file"
	case KindRtf:
		return "rtf"
	case KindHtml:
		return "html"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one clipboard change. Which field is set depends on Kind.
type Event struct {
	Kind  Kind
	Text  string
	Bytes []byte
	Paths []string
}

// Payload converts the event to its typed form.
func (e Event) Payload() (models.Payload, error) {
	switch e.Kind {
	case KindText:
		return models.TextPayload{Plain: e.Text}, nil
	case KindRtf:
		return models.RichTextPayload{Kind: models.ClipTypeRtf, Markup: e.Text}, nil
	case KindHtml:
		return models.RichTextPayload{Kind: models.ClipTypeHtml, Markup: e.Text}, nil
	case KindImage:
		return models.ImagePayload{Bytes: e.Bytes}, nil
	case KindFile:
		switch len(e.Paths) {
		case 0:
			return nil, fmt.Errorf("file event without paths")
		case 1:
			return models.FilePayload{Path: e.Paths[0]}, nil
		default:
			return models.MultiFilePayload{Paths: append([]string(nil), e.Paths...)}, nil
		}
	default:
		return nil, fmt.Errorf("unsupported clipboard kind %s", e.Kind)
	}
}

// Source emits clipboard changes until ctx is done or the source is
// exhausted, then closes the channel.
type Source interface {
	Subscribe(ctx context.Context) <-chan Event
}

// ChannelSource forwards events pushed with Publish.
type ChannelSource struct {
	ch chan Event
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan Event, buffer)}
}

// Publish blocks until the event is buffered or ctx is done.
func (s *ChannelSource) Publish(ctx context.Context, e Event) error {
	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream.
func (s *ChannelSource) Close() { close(s.ch) }

func (s *ChannelSource) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-s.ch:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
