package models

// CloudClip is the wire form of a clip exchanged with the sync service.
// Content is ciphertext for textual types and the resource name for binaries.
type CloudClip struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	MD5Str   string `json:"md5Str"`
	Created  int64  `json:"created"`
	Sort     int64  `json:"sort"`
	Pinned   int    `json:"pinnedFlag"`
	DeviceID string `json:"deviceId"`
	Version  int64  `json:"version"`
	DelFlag  int    `json:"delFlag"`
	SyncTime int64  `json:"syncTime"`
}

// Tombstoned reports whether the remote clip was deleted.
func (c CloudClip) Tombstoned() bool { return c.DelFlag != 0 }

// ToCloud converts a local record to its wire form.
func ToCloud(r ClipRecord) CloudClip {
	c := CloudClip{
		ID:       r.ID,
		Type:     string(r.Type),
		Content:  r.Content,
		MD5Str:   r.MD5,
		Created:  r.Created,
		Sort:     r.Sort,
		DeviceID: r.DeviceID,
		Version:  r.Version,
		SyncTime: r.SyncTime,
	}
	if r.Pinned {
		c.Pinned = 1
	}
	if r.Deleted {
		c.DelFlag = 1
	}
	return c
}

// FromCloud builds a local record for a remote clip. The caller assigns the
// local sort and sync state.
func FromCloud(c CloudClip) ClipRecord {
	return ClipRecord{
		ID:          c.ID,
		Type:        ParseClipType(c.Type),
		Content:     c.Content,
		MD5:         c.MD5Str,
		Created:     c.Created,
		Sort:        c.Sort,
		Pinned:      c.Pinned != 0,
		SyncTime:    c.SyncTime,
		DeviceID:    c.DeviceID,
		Version:     c.Version,
		Deleted:     c.DelFlag != 0,
		CloudSource: SourceCloud,
	}
}

// SyncOp is the kind of a single-record push.
type SyncOp string

const (
	SyncOpAdd    SyncOp = "add"
	SyncOpDelete SyncOp = "delete"
)

// CompleteSyncRequest is the body of POST /sync/complete.
type CompleteSyncRequest struct {
	Clips        []CloudClip `json:"clips"`
	Timestamp    int64       `json:"timestamp"`
	LastSyncTime int64       `json:"lastSyncTime"`
	DeviceID     string      `json:"deviceId"`
}

// CompleteSyncResponse carries remote deltas since the watermark.
type CompleteSyncResponse struct {
	Clips     []CloudClip `json:"clips"`
	Timestamp int64       `json:"timestamp"`
}

// SingleSyncRequest is the body of POST /sync/single.
type SingleSyncRequest struct {
	Type SyncOp    `json:"type"`
	Clip CloudClip `json:"clip"`
}

// TimestampResponse is returned by endpoints that only report server time.
type TimestampResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// DownloadURLRequest is the body of POST /sync/getDownloadUrl.
type DownloadURLRequest struct {
	MD5Str string `json:"md5Str"`
	Type   string `json:"type"`
}

// DownloadURLResponse points at a remote binary payload.
type DownloadURLResponse struct {
	URL      string `json:"url"`
	MD5Str   string `json:"md5Str"`
	Type     string `json:"type"`
	FileName string `json:"fileName"`
}

// UserInfo describes the authenticated account.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Credentials is the auth service's token response.
type Credentials struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ExpiresIn    int64    `json:"expiresIn"`
	UserInfo     UserInfo `json:"userInfo"`
}

// AuthRequest is the body of login and register calls.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
