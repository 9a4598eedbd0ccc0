// Package names - Eindeutige Dateinamen fuer erzeugte Bilder
package names

import "github.com/google/uuid"

// NameService erzeugt Bildnamen
type NameService interface {
	CreateImageName(prefix string) string
}

// SimpleNameService haengt eine zufaellige UUID an den Praefix an:
// "<prefix>_<uuid4>.png". Ein leerer Praefix ergibt "_<uuid4>.png".
type SimpleNameService struct{}

func (SimpleNameService) CreateImageName(prefix string) string {
	return prefix + "_" + uuid.NewString() + ".png"
}
