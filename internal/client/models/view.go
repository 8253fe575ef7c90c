package models

// ClipView is a decoded record as shown to the user.
type ClipView struct {
	ID       string
	Type     ClipType
	Text     string
	Path     string
	Paths    []string
	Pinned   bool
	Sort     int64
	Created  int64
	SyncFlag SyncFlag
	Cloud    bool
}

// View decodes r for display. A record that cannot be decrypted is returned
// with an empty Text and the error.
func (r ClipRecord) View(d Decrypter) (ClipView, error) {
	v := ClipView{
		ID:       r.ID,
		Type:     r.Type,
		Pinned:   r.Pinned,
		Sort:     r.Sort,
		Created:  r.Created,
		SyncFlag: r.SyncFlag,
		Cloud:    r.CloudSource == SourceCloud,
	}
	sc, err := r.Decode(d)
	if err != nil {
		return v, err
	}
	v.Text, v.Path, v.Paths = sc.Text, sc.Path, sc.Paths
	return v, nil
}
