package model

import "time"

// BoardStatusActive is the status every new board starts with.
const BoardStatusActive = "ACTIVE"

// Board is a bulletin-board post. Only its author (UserID) may change it.
type Board struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	CategoryID   int64     `json:"categoryId"`
	CategoryType string    `json:"categoryType"`
	Status       string    `json:"status"`
	UserID       int64     `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Comment belongs to a board. Only its author may change it.
type Comment struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	UserID    int64     `json:"userId"`
	BoardID   int64     `json:"boardId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
