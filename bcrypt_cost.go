//go:build !race

package socialauth

func passwordHashCost() int {
	return 12
}
