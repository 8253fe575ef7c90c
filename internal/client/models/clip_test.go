package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDecrypter struct {
	plain string
	err   error
}

func (s stubDecrypter) Decrypt(string) (string, error) { return s.plain, s.err }

func TestParseClipType(t *testing.T) {
	tests := []struct {
		in   string
		want ClipType
	}{
		{"text", ClipTypeText},
		{"IMAGE", ClipTypeImage},
		{"File", ClipTypeFile},
		{"rtf", ClipTypeRtf},
		{"html", ClipTypeHtml},
		{"bogus", ClipTypeUnknown},
		{"", ClipTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseClipType(tt.in), tt.in)
	}
}

func TestPushedFlag(t *testing.T) {
	assert.Equal(t, Synchronized, ClipRecord{Type: ClipTypeText}.PushedFlag())
	assert.Equal(t, Synchronizing, ClipRecord{Type: ClipTypeImage}.PushedFlag())
	assert.Equal(t, Synchronizing, ClipRecord{Type: ClipTypeFile}.PushedFlag())
	assert.Equal(t, Synchronized, ClipRecord{Type: ClipTypeImage, Deleted: true}.PushedFlag())
	assert.Equal(t, Synchronized, ClipRecord{Type: ClipTypeImage, CloudSource: SourceCloud}.PushedFlag())
}

func TestSyncEligible(t *testing.T) {
	assert.True(t, ClipRecord{Type: ClipTypeText}.SyncEligible())
	assert.False(t, ClipRecord{Type: ClipTypeText, SyncFlag: SkipSync}.SyncEligible())
	assert.False(t, ClipRecord{Type: ClipTypeUnknown}.SyncEligible())
}

func TestPathsRoundTrip(t *testing.T) {
	joined := JoinPaths([]string{"/a/x.txt", "/b/y.txt"})
	assert.Equal(t, "/a/x.txt:::/b/y.txt", joined)
	assert.Equal(t, []string{"/a/x.txt", "/b/y.txt"}, Paths(joined))
	assert.Nil(t, Paths(""))
}

func TestDecode(t *testing.T) {
	t.Run("text is decrypted", func(t *testing.T) {
		sc, err := ClipRecord{Type: ClipTypeText, Content: "ct"}.Decode(stubDecrypter{plain: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "hello", sc.Text)
	})

	t.Run("decrypt failure surfaces", func(t *testing.T) {
		_, err := ClipRecord{ID: "x", Type: ClipTypeHtml, Content: "ct"}.Decode(stubDecrypter{err: errors.New("bad")})
		require.Error(t, err)
	})

	t.Run("multi file", func(t *testing.T) {
		r := ClipRecord{Type: ClipTypeFile, Content: "a.txt:::b.txt", LocalFilePath: "/x/a.txt:::/y/b.txt"}
		sc, err := r.Decode(nil)
		require.NoError(t, err)
		assert.Equal(t, "a.txt, b.txt", sc.Text)
		assert.Equal(t, []string{"/x/a.txt", "/y/b.txt"}, sc.Paths)
	})

	t.Run("image", func(t *testing.T) {
		sc, err := ClipRecord{Type: ClipTypeImage, Content: "resources/a.png", LocalFilePath: "/root/resources/a.png"}.Decode(nil)
		require.NoError(t, err)
		assert.Equal(t, "/root/resources/a.png", sc.Path)
	})
}

func TestCloudConversion(t *testing.T) {
	r := ClipRecord{ID: "1", Type: ClipTypeText, Content: "ct", MD5: "m", Pinned: true, Deleted: true, Sort: 4}
	c := ToCloud(r)
	assert.Equal(t, 1, c.Pinned)
	assert.True(t, c.Tombstoned())
	assert.Equal(t, "text", c.Type)

	back := FromCloud(c)
	assert.Equal(t, SourceCloud, back.CloudSource)
	assert.True(t, back.Deleted)
	assert.True(t, back.Pinned)
	assert.Equal(t, r.MD5, back.MD5)
}

func TestPayloadTypes(t *testing.T) {
	cases := map[ClipType]Payload{
		ClipTypeText:  TextPayload{Plain: "x"},
		ClipTypeImage: ImagePayload{Bytes: []byte{1}},
		ClipTypeFile:  MultiFilePayload{Paths: []string{"a", "b"}},
		ClipTypeHtml:  RichTextPayload{Kind: ClipTypeHtml, Markup: "<b>"},
	}
	for want, p := range cases {
		assert.Equal(t, want, p.ClipType())
	}
	assert.Equal(t, ClipTypeFile, FilePayload{Path: "a"}.ClipType())
}
