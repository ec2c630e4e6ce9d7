package dialog

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
)

type MenuItem struct {
	Name     string
	Short    string
	Price    int
	Keywords []string
}

// Menu is the ordered catalog the order agent recognizes by keyword.
type Menu struct {
	Items []MenuItem
}

var DefaultMenu = Menu{Items: []MenuItem{
	{Name: "Margherita Pizza", Short: "Pizza", Price: 299, Keywords: []string{"pizza"}},
	{Name: "Chicken Burger", Short: "Burger", Price: 199, Keywords: []string{"burger"}},
	{Name: "French Fries", Short: "Fries", Price: 99, Keywords: []string{"fries"}},
	{Name: "Pasta Alfredo", Short: "Pasta", Price: 279, Keywords: []string{"pasta"}},
	{Name: "Club Sandwich", Short: "Sandwich", Price: 179, Keywords: []string{"sandwich"}},
}}

// Detect returns the catalog items mentioned in text, in catalog order,
// each at most once.
func (m Menu) Detect(text string) []MenuItem {
	lower := strings.ToLower(text)
	var out []MenuItem
	for _, item := range m.Items {
		for _, kw := range item.Keywords {
			if strings.Contains(lower, kw) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

func (item MenuItem) LineItem() callstate.LineItem {
	return callstate.LineItem{Name: item.Name, Price: item.Price}
}

// Listing renders the catalog for speech.
func (m Menu) Listing() string {
	parts := make([]string, 0, len(m.Items))
	for _, item := range m.Items {
		parts = append(parts, fmt.Sprintf("%s for %d rupees", item.Name, item.Price))
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
	}
}

func (m Menu) shortNames() string {
	names := make([]string, 0, len(m.Items))
	for _, item := range m.Items {
		names = append(names, item.Short)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", or " + names[len(names)-1]
	}
}
