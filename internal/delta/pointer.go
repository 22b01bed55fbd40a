package delta

import "strings"

// pointerToPath converts an RFC 6901 JSON pointer ("/a/b/0/c") into the dot
// path gjson/sjson expect ("a.b.0.c"), unescaping "~1" to "/" and "~0" to
// "~" per the pointer spec. This assumes keys never themselves contain a
// literal "." or "*", which holds for every id and field name this engine
// produces (uuids, ulids, and fixed struct field names).
func pointerToPath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	segments := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		segments[i] = seg
	}
	return strings.Join(segments, ".")
}

// escapeSegment escapes a raw map key into a pointer segment.
func escapeSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "~", "~0")
	seg = strings.ReplaceAll(seg, "/", "~1")
	return seg
}

func joinPointer(base, seg string) string {
	return base + "/" + escapeSegment(seg)
}
