package keypad

import "fmt"

// BuildAdjacency derives the neighbouring keys of every key in the grid.
//
// Horizontal neighbours are only recorded when they hold a different key.
// Vertical neighbours are recorded unconditionally unless skipVerticalSelf is
// set, so a key spanning two rows lists itself. Blank cells are ignored and a
// neighbour reached through several cells of a wide key is recorded once.
func BuildAdjacency(g Grid, skipVerticalSelf bool) (map[Key][]Key, error) {
	adj := make(map[Key][]Key)

	add := func(key, neighbour Key) error {
		if neighbour == 0 {
			return nil
		}
		for _, k := range adj[key] {
			if k == neighbour {
				return nil
			}
		}
		if len(adj[key]) == MaxAdjacent {
			return fmt.Errorf("%w: key 0x%X", ErrTooManyAdjacent, key)
		}
		adj[key] = append(adj[key], neighbour)
		return nil
	}

	for row := 0; row < GridRows; row++ {
		for col := 0; col < GridCols; col++ {
			key := g[row][col]
			if key == 0 {
				continue
			}

			var neighbours []Key
			if row > 0 && (!skipVerticalSelf || g[row-1][col] != key) {
				neighbours = append(neighbours, g[row-1][col])
			}
			if row < GridRows-1 && (!skipVerticalSelf || g[row+1][col] != key) {
				neighbours = append(neighbours, g[row+1][col])
			}
			if col > 0 && g[row][col-1] != key {
				neighbours = append(neighbours, g[row][col-1])
			}
			if col < GridCols-1 && g[row][col+1] != key {
				neighbours = append(neighbours, g[row][col+1])
			}

			for _, n := range neighbours {
				if err := add(key, n); err != nil {
					return nil, fmt.Errorf("row %d col %d: %w", row+1, col+1, err)
				}
			}
		}
	}

	return adj, nil
}
