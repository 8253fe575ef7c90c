package clipboard

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

// LineSource turns lines of a reader into clipboard events. Plain lines are
// text. Directives select other kinds:
//
//	!file <path> [<path>...]
//	!image <path>
//	!html <markup>
//	!rtf <markup>
type LineSource struct {
	r   io.Reader
	log logging.Logger
}

func NewLineSource(r io.Reader, log logging.Logger) *LineSource {
	return &LineSource{r: r, log: log}
}

func (s *LineSource) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(s.r)
		sc.Buffer(make([]byte, 64*1024), 16<<20)
		for sc.Scan() {
			e, ok := s.parse(ctx, sc.Text())
			if !ok {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			s.log.Error(ctx, "reading clipboard lines", "error", err)
		}
	}()
	return out
}

func (s *LineSource) parse(ctx context.Context, line string) (Event, bool) {
	if !strings.HasPrefix(line, "!") {
		return Event{Kind: KindText, Text: line}, true
	}
	directive, rest, _ := strings.Cut(line, " ")
	switch directive {
	case "!file":
		paths := strings.Fields(rest)
		if len(paths) == 0 {
			return Event{}, false
		}
		return Event{Kind: KindFile, Paths: paths}, true
	case "!image":
		b, err := os.ReadFile(strings.TrimSpace(rest))
		if err != nil {
			s.log.Warn(ctx, "reading image for clipboard event", "error", err)
			return Event{}, false
		}
		return Event{Kind: KindImage, Bytes: b}, true
	case "!html":
		return Event{Kind: KindHtml, Text: rest}, true
	case "!rtf":
		return Event{Kind: KindRtf, Text: rest}, true
	default:
		return Event{Kind: KindText, Text: line}, true
	}
}
