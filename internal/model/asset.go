// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// StorageRef locates a file's bytes. Backend names the storage backend that
// produced Key; Key is meaningful only to that backend and is never parsed
// above the storage layer.
type StorageRef struct {
	Backend string `json:"backend"`
	Key     string `json:"-"`
}

// IsZero reports whether the reference points nowhere.
func (r StorageRef) IsZero() bool { return r.Backend == "" && r.Key == "" }

// Asset is one purchasable digital file. Prices are integer minor units; a
// price of 0 marks a free asset.
type Asset struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	Price         int64      `json:"price"`
	ListPrice     *int64     `json:"listPrice,omitempty"`
	Category      string     `json:"category,omitempty"`
	AuthorID      string     `json:"authorId"`
	Storage       StorageRef `json:"storage"`
	FileName      string     `json:"fileName"`
	ContentType   string     `json:"contentType"`
	SizeBytes     int64      `json:"sizeBytes"`
	PageCount     int        `json:"pageCount,omitempty"`
	Active        bool       `json:"active"`
	DownloadTotal int64      `json:"downloadTotal"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsFree reports whether the asset skips the purchase flow.
func (a *Asset) IsFree() bool { return a.Price == 0 }

// AssetPatch carries an admin edit. Nil fields are left unchanged.
type AssetPatch struct {
	Title     *string `json:"title,omitempty"`
	Price     *int64  `json:"price,omitempty"`
	ListPrice *int64  `json:"listPrice,omitempty"`
	Category  *string `json:"category,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}
