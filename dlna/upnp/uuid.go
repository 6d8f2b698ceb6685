package upnp

import "fmt"

// FormatUUID formats a 16-byte digest (typically an MD5 sum) as a
// standard 8-4-4-4-12 UUID string.
func FormatUUID(buf []byte) string {
	if len(buf) != 16 {
		panic(fmt.Sprintf("upnp: FormatUUID requires a 16-byte digest, got %d", len(buf)))
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", buf[:4], buf[4:6], buf[6:8], buf[8:10], buf[10:16])
}
