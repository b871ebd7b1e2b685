package directory

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/njoerd114/coworkersync/internal/model"
)

// coworkerDTO is the JSON structure for a single coworker returned by the
// directory's coworkers endpoint.
type coworkerDTO struct {
	UID       string `json:"uid"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Mail      string `json:"mail,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Location  string `json:"location,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"` // absolute, or relative to the directory URL
	Version   string `json:"version,omitempty"`
}

// coworkersResponse wraps the coworkers array. Coworkers is nil when the key
// is absent or null, which is not the same as an empty directory.
type coworkersResponse struct {
	Coworkers *[]coworkerDTO `json:"coworkers"`
}

// toContacts converts the directory payload into the snapshot handed to the
// sync engine. Entries without a uid are dropped, and when a uid repeats only
// the first occurrence is kept. A missing version is replaced by the
// contact's content hash so equality-based change detection still works.
func toContacts(base *url.URL, dtos []coworkerDTO, logger *slog.Logger) []model.RemoteContact {
	out := make([]model.RemoteContact, 0, len(dtos))
	seen := make(map[string]struct{}, len(dtos))

	for i, d := range dtos {
		c := dtoToContact(base, d)
		if c.Version == "" {
			c.Version = c.ContentHash()
		}
		if err := c.Validate(); err != nil {
			logger.Warn("dropping invalid coworker", "index", i, "error", err)
			continue
		}
		if _, dup := seen[c.UID]; dup {
			logger.Warn("dropping duplicate coworker", "uid", c.UID, "index", i)
			continue
		}
		seen[c.UID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func dtoToContact(base *url.URL, d coworkerDTO) model.RemoteContact {
	return model.RemoteContact{
		UID:       strings.TrimSpace(d.UID),
		FirstName: strings.TrimSpace(d.FirstName),
		LastName:  strings.TrimSpace(d.LastName),
		Mail:      strings.TrimSpace(d.Mail),
		Phone:     strings.TrimSpace(d.Phone),
		Location:  strings.TrimSpace(d.Location),
		PhotoURL:  resolvePhotoURL(base, strings.TrimSpace(d.PhotoURL)),
		Version:   strings.TrimSpace(d.Version),
	}
}

// resolvePhotoURL makes a relative photo reference absolute against the
// directory base URL. Unparseable references are returned unchanged; the
// photo fetcher reports them as unavailable.
func resolvePhotoURL(base *url.URL, raw string) string {
	if raw == "" || base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	return base.ResolveReference(ref).String()
}
