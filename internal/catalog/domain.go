// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrItemNotFound  = errors.New("catalog item not found")
	ErrInvalidISBN   = errors.New("ISBN must be 10 or 13 digits")
	ErrMissingTitle  = errors.New("title is required")
	ErrUnknownFormat = errors.New("unknown format")
)

// Format is the physical or digital form of an entry.
type Format string

const (
	Hardcover Format = "hardcover"
	Paperback Format = "paperback"
	EbookPDF  Format = "ebook_pdf"
	EbookEPUB Format = "ebook_epub"
	EbookMOBI Format = "ebook_mobi"
	Audiobook Format = "audiobook"
)

// Digital reports whether f is an e-book format.
func (f Format) Digital() bool {
	return f == EbookPDF || f == EbookEPUB || f == EbookMOBI
}

func (f Format) valid() bool {
	switch f {
	case Hardcover, Paperback, EbookPDF, EbookEPUB, EbookMOBI, Audiobook:
		return true
	}
	return false
}

// Category refines how long an entry takes to read.
type Category string

const (
	General    Category = "general"
	Fiction    Category = "fiction"
	NonFiction Category = "nonfiction"
	Fantasy    Category = "fantasy"
	Textbook   Category = "textbook"
)

// Entry is the descriptive record for one lendable copy. Its ID is the item
// id the circulation engine tracks.
type Entry struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre,omitempty"`
	Publisher       string    `json:"publisher,omitempty"`
	Language        string    `json:"language,omitempty"`
	Year            int       `json:"year,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Format          Format    `json:"format"`
	Category        Category  `json:"category"`
	Pages           int       `json:"pages,omitempty"`
	WordCount       int       `json:"word_count,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	FileSizeMB      float64   `json:"file_size_mb,omitempty"`
	AddedAt         time.Time `json:"added_at"`
}

// ReadingTime estimates minutes needed to get through e. E-books are timed by
// word count, audiobooks by running time, print by pages at a rate that
// depends on the category.
func ReadingTime(e Entry) int {
	switch {
	case e.Format == Audiobook:
		return e.DurationMinutes
	case e.Format.Digital():
		return e.WordCount/200 + 1
	}
	switch e.Category {
	case Fantasy:
		return e.Pages * 3
	case Textbook:
		return e.Pages * 5
	default:
		return e.Pages * 2
	}
}

// NewEntry is the input to AddItem.
type NewEntry struct {
	ISBN            string   `json:"isbn"`
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	Genre           string   `json:"genre"`
	Publisher       string   `json:"publisher"`
	Language        string   `json:"language"`
	Year            int      `json:"year"`
	Tags            []string `json:"tags"`
	Format          Format   `json:"format"`
	Category        Category `json:"category"`
	Pages           int      `json:"pages"`
	WordCount       int      `json:"word_count"`
	DurationMinutes int      `json:"duration_minutes"`
	FileSizeMB      float64  `json:"file_size_mb"`
}

// ItemAddedEvent is journalled when an entry is catalogued.
type ItemAddedEvent struct {
	Entry Entry `json:"entry"`
}
