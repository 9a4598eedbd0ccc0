// urls.go - URL-Service fuer Bilder und Thumbnails
package images

import (
	"net/url"
	"strings"
)

// URLService erzeugt die oeffentlichen URLs eines Bildes
type URLService interface {
	ImageURL(name string, thumbnail bool) string
}

// LocalURLService liefert Pfade relativ zu Base, z.B. "api/v1/images/i/<name>/full"
type LocalURLService struct {
	Base string
}

func (s LocalURLService) ImageURL(name string, thumbnail bool) string {
	kind := "full"
	if thumbnail {
		kind = "thumbnail"
	}

	return strings.TrimRight(s.Base, "/") + "/images/i/" + url.PathEscape(name) + "/" + kind
}
