// dto.go - Konvertierung von Records in DTOs
package images

// RecordToDTO kopiert record unveraendert und setzt die beiden URLs und die Board-ID
func RecordToDTO(record ImageRecord, imageURL, thumbnailURL string, boardID *string) ImageDTO {
	return ImageDTO{
		ImageRecord:  record,
		ImageURL:     imageURL,
		ThumbnailURL: thumbnailURL,
		BoardID:      boardID,
	}
}

// URLs gibt die Bild- und Thumbnail-URL fuer name zurueck
func URLs(svc URLService, name string) ImageURLsDTO {
	return ImageURLsDTO{
		Name:         name,
		ImageURL:     svc.ImageURL(name, false),
		ThumbnailURL: svc.ImageURL(name, true),
	}
}

// NewDTO baut ein DTO mit den URLs aus svc
func NewDTO(svc URLService, record ImageRecord, boardID *string) ImageDTO {
	urls := URLs(svc, record.Name)
	return RecordToDTO(record, urls.ImageURL, urls.ThumbnailURL, boardID)
}
