package sidecar

// Sidecar is the per-destination metadata document persisted next to the
// final file as <dest>.meta.json. It is the single source of truth for
// resume state; the partial file holds the bytes, the sidecar says which
// of them are durable.
type Sidecar struct {
	URL          string `json:"url"`
	DatasetSlug  string `json:"dataset_slug,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`

	ETag          string `json:"etag,omitempty"`
	LastModified  string `json:"last_modified,omitempty"`
	ContentLength *int64 `json:"content_length,omitempty"`
	AcceptRanges  *bool  `json:"accept_ranges,omitempty"`

	SHA256       string `json:"sha256,omitempty"`
	DownloadedAt string `json:"downloaded_at,omitempty"`
	Strategy     string `json:"strategy,omitempty"`

	Segments     *Segments `json:"segments,omitempty"`
	BytesWritten int64     `json:"bytes_written"`
	Retries      int       `json:"retries"`
	Notes        string    `json:"notes,omitempty"`
}

type Segments struct {
	Size   int64  `json:"size"`
	Bitmap Bitmap `json:"bitmap"`
}

// Terminal reports whether the download committed: sha256 and
// downloaded_at are only ever set together, at commit time.
func (s *Sidecar) Terminal() bool {
	return s.SHA256 != "" && s.DownloadedAt != ""
}

// EnsureSegments initializes the segment bitmap for a known content length,
// replacing any bitmap whose geometry no longer matches.
func (s *Sidecar) EnsureSegments(contentLength, segmentSize int64) *Segments {
	n := SegmentCount(contentLength, segmentSize)
	if s.Segments == nil || s.Segments.Size != segmentSize || s.Segments.Bitmap.Len() != n {
		s.Segments = &Segments{Size: segmentSize, Bitmap: NewBitmap(n)}
	}
	return s.Segments
}

// RecountBytes recomputes bytes_written from the bitmap: popcount times
// segment size, with the tail segment counted at its true length.
func (s *Sidecar) RecountBytes() {
	if s.Segments == nil || s.ContentLength == nil {
		return
	}
	total := *s.ContentLength
	size := s.Segments.Size
	n := s.Segments.Bitmap.Len()
	var sum int64
	for i := 0; i < n; i++ {
		if !s.Segments.Bitmap.IsSet(i) {
			continue
		}
		if i == n-1 {
			sum += total - int64(i)*size
		} else {
			sum += size
		}
	}
	s.BytesWritten = sum
}

// ResetProgress drops all partial-transfer state. Store.Discard calls it
// on a validator change, an integrity failure, a whole-body restart, and
// when a committed file is superseded by a new download; these are the
// only paths that shrink bytes_written.
func (s *Sidecar) ResetProgress() {
	s.SHA256 = ""
	s.DownloadedAt = ""
	s.Segments = nil
	s.BytesWritten = 0
}

func SegmentCount(contentLength, segmentSize int64) int {
	if contentLength <= 0 || segmentSize <= 0 {
		return 0
	}
	return int((contentLength + segmentSize - 1) / segmentSize)
}

// SegmentRange returns the byte range [start, end] covered by segment i.
func SegmentRange(i int, contentLength, segmentSize int64) (int64, int64) {
	start := int64(i) * segmentSize
	end := start + segmentSize - 1
	if end > contentLength-1 {
		end = contentLength - 1
	}
	return start, end
}
