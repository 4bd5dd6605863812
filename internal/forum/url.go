package forum

import (
	"fmt"
	"strings"
)

// SectionPageURL builds the listing URL for one page of a section.
func SectionPageURL(baseURL string, s Section, page int) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/forum.php?mod=forumdisplay&fid=%s&filter=typeid&typeid=%s&page=%d",
		base, s.FID, s.TypeID, page)
}

// ThreadURL builds the full-thread URL for one thread ID.
func ThreadURL(baseURL string, tid ThreadID) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/forum.php?mod=viewthread&tid=%s", base, tid)
}
