package documents

import (
	"fmt"
	"path"
	"strings"
)

// objectKey places documents under their contract, keeping the file's base name
func objectKey(contractID uint64, documentID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = "document"
	}
	return fmt.Sprintf("contracts/%d/documents/%s/%s", contractID, documentID, name)
}
