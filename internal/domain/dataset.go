package domain

// Dataset is the tabular input of a discovery run
type Dataset struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column is a single numeric dataset column
type Column struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Column returns the column with the given name
func (d Dataset) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Rows returns the number of rows, taken from the first column
func (d Dataset) Rows() int {
	if len(d.Columns) == 0 {
		return 0
	}
	return len(d.Columns[0].Values)
}
