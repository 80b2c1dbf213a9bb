package pagination

// MaxPageSize is the largest page the catalog listing serves.
const MaxPageSize = 100

// Page is one listing request.
type Page struct {
	Number int // 1-indexed
	Limit  int
}

// PlanPages splits count records into pages of pageSize, with a smaller final
// page for any remainder. pageSize outside 1..MaxPageSize selects
// MaxPageSize. A count <= 0 yields no pages.
func PlanPages(count, pageSize int) []Page {
	if count <= 0 {
		return nil
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	full := count / pageSize
	remainder := count % pageSize

	pages := make([]Page, 0, full+1)
	for i := 1; i <= full; i++ {
		pages = append(pages, Page{Number: i, Limit: pageSize})
	}
	if remainder != 0 {
		pages = append(pages, Page{Number: full + 1, Limit: remainder})
	}
	return pages
}
