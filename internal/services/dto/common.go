package dto

// Page - страница списка
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// PageQuery - параметры страницы из query string
type PageQuery struct {
	Page     int `form:"page" validate:"omitempty,gte=1"`
	PageSize int `form:"page_size" validate:"omitempty,gte=1,lte=100"`
}

func NewPage[T any](items []T, total int64, q PageQuery) *Page[T] {
	if items == nil {
		items = []T{}
	}
	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return &Page[T]{Items: items, Total: total, Page: page, PageSize: size}
}
