package models

// Payload is the typed content of a captured clip. Exactly one arm is set per
// clip; conversion to the flat ClipRecord happens at the persistence boundary.
type Payload interface {
	ClipType() ClipType
	isPayload()
}

// TextPayload is plain text.
type TextPayload struct {
	Plain string
}

// RichTextPayload is Rtf or Html markup, stored like text.
type RichTextPayload struct {
	Kind   ClipType
	Markup string
}

// ImagePayload is raw encoded image bytes.
type ImagePayload struct {
	Bytes []byte
}

// FilePayload is a single file on disk.
type FilePayload struct {
	Path string
}

// MultiFilePayload is several files copied at once.
type MultiFilePayload struct {
	Paths []string
}

func (TextPayload) ClipType() ClipType       { return ClipTypeText }
func (p RichTextPayload) ClipType() ClipType { return p.Kind }
func (ImagePayload) ClipType() ClipType      { return ClipTypeImage }
func (FilePayload) ClipType() ClipType       { return ClipTypeFile }
func (MultiFilePayload) ClipType() ClipType  { return ClipTypeFile }

func (TextPayload) isPayload()      {}
func (RichTextPayload) isPayload()  {}
func (ImagePayload) isPayload()     {}
func (FilePayload) isPayload()      {}
func (MultiFilePayload) isPayload() {}
