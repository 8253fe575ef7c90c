package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
)

// ClipType classifies clipboard content.
type ClipType string

const (
	ClipTypeText    ClipType = "text"
	ClipTypeImage   ClipType = "image"
	ClipTypeFile    ClipType = "file"
	ClipTypeRtf     ClipType = "rtf"
	ClipTypeHtml    ClipType = "html"
	ClipTypeUnknown ClipType = "unknown"
)

// ParseClipType maps a stored or remote type name to a ClipType.
func ParseClipType(s string) ClipType {
	switch ClipType(strings.ToLower(s)) {
	case ClipTypeText:
		return ClipTypeText
	case ClipTypeImage:
		return ClipTypeImage
	case ClipTypeFile:
		return ClipTypeFile
	case ClipTypeRtf:
		return ClipTypeRtf
	case ClipTypeHtml:
		return ClipTypeHtml
	default:
		return ClipTypeUnknown
	}
}

// IsTextual reports whether content is stored encrypted in the content column.
func (t ClipType) IsTextual() bool {
	return t == ClipTypeText || t == ClipTypeRtf || t == ClipTypeHtml
}

// HasBinary reports whether the clip references a payload file.
func (t ClipType) HasBinary() bool {
	return t == ClipTypeImage || t == ClipTypeFile
}

// SyncFlag is the cloud synchronisation state of a record.
type SyncFlag int

const (
	NotSynchronized SyncFlag = 0
	Synchronized    SyncFlag = 1
	// Synchronizing: metadata pushed, binary upload pending.
	Synchronizing SyncFlag = 2
	SkipSync      SyncFlag = 3
)

func (f SyncFlag) String() string {
	switch f {
	case NotSynchronized:
		return "not_synchronized"
	case Synchronized:
		return "synchronized"
	case Synchronizing:
		return "synchronizing"
	case SkipSync:
		return "skip_sync"
	default:
		return fmt.Sprintf("sync_flag(%d)", int(f))
	}
}

// CloudSource tells where a record originated.
type CloudSource int

const (
	SourceLocal CloudSource = 0
	SourceCloud CloudSource = 1
)

// ClipRecord is a row of the clip_record table. Content holds ciphertext for
// textual types, a root-relative resource path for images, the display name
// of a single file, or MultiPathSeparator-joined names for multi-file clips.
// LocalFilePath is the absolute payload location of Image and File clips.
type ClipRecord struct {
	ID            string
	Type          ClipType
	Content       string
	MD5           string
	Created       int64 // ms epoch
	Sort          int64
	Pinned        bool
	SyncFlag      SyncFlag
	SyncTime      int64
	DeviceID      string
	Version       int64
	Deleted       bool
	LocalFilePath string
	CloudSource   CloudSource
}

// Active reports whether the record is not tombstoned.
func (r ClipRecord) Active() bool { return !r.Deleted }

// IsMultiFile reports whether a File record carries several paths.
func (r ClipRecord) IsMultiFile() bool {
	return r.Type == ClipTypeFile && strings.Contains(r.LocalFilePath, common.MultiPathSeparator)
}

// SyncEligible reports whether the record may be pushed to the cloud.
func (r ClipRecord) SyncEligible() bool {
	return r.SyncFlag != SkipSync && r.Type != ClipTypeUnknown
}

// PushedFlag is the state a record moves to once its metadata reached the
// server: binaries still need uploading, everything else is done.
func (r ClipRecord) PushedFlag() SyncFlag {
	if r.Active() && r.Type.HasBinary() && r.CloudSource == SourceLocal {
		return Synchronizing
	}
	return Synchronized
}

// Paths splits a multi-path column value.
func Paths(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, common.MultiPathSeparator)
}

// JoinPaths is the inverse of Paths.
func JoinPaths(parts []string) string {
	return strings.Join(parts, common.MultiPathSeparator)
}

// Decrypter reverses the at-rest encryption of textual content.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// StoredContent is a record's content column turned back into typed form.
type StoredContent struct {
	Type  ClipType
	Text  string   // plaintext for textual types, display names for files
	Path  string   // resolved payload path for Image/File
	Paths []string // original paths of a multi-file clip
}

// Decode interprets Content according to Type. Text types are decrypted;
// images and files report their payload location.
func (r ClipRecord) Decode(d Decrypter) (StoredContent, error) {
	sc := StoredContent{Type: r.Type}
	switch {
	case r.Type.IsTextual():
		if r.Content == "" {
			return sc, nil
		}
		plain, err := d.Decrypt(r.Content)
		if err != nil {
			return sc, fmt.Errorf("decode %s: %w", r.ID, err)
		}
		sc.Text = plain
	case r.IsMultiFile():
		sc.Text = strings.Join(Paths(r.Content), ", ")
		sc.Paths = Paths(r.LocalFilePath)
	case r.Type.HasBinary():
		sc.Text = r.Content
		sc.Path = r.LocalFilePath
	default:
		sc.Text = r.Content
	}
	return sc, nil
}
