package app

import (
	"log"
	"mime"
)

// exportTypes are the download formats served by the export endpoint. Minimal
// containers ship without /etc/mime.types, so they are registered explicitly.
var exportTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func init() {
	for ext, typ := range exportTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			log.Printf("app: register MIME type %s: %v", ext, err)
		}
	}
}
