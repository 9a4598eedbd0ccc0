// schema.go - TypeScript-Definitionen der DTOs fuer das Frontend
package images

import (
	"time"

	"github.com/tkrajina/typescriptify-golang-structs/typescriptify"
)

// TypeScript gibt Interfaces fuer ImageDTO und ImageURLsDTO zurueck
func TypeScript() (string, error) {
	converter := typescriptify.New()
	converter.CreateInterface = true
	converter.BackupDir = ""
	converter.ManageType(time.Time{}, typescriptify.TypeOptions{TSType: "string"})

	converter.Add(ImageURLsDTO{})
	converter.Add(ImageDTO{})

	return converter.Convert(nil)
}
