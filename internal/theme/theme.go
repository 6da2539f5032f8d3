package theme

import (
	"fmt"
)

// Banner returns the startup banner.
func Banner() string {
	const cyan = "\033[36m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	art := "" +
		"   ／＞　 フ   " + cyan + "MAGPIE" + reset + "\n" +
		cyan + "   ▙▚▞▚▞▚▞▚▞▚▞▚▞▚▞▚▞▚▞▟\n" + reset +
		yellow + "   ────────────────────────\n" + reset +
		"   a quota-aware engagement bot for X\n"
	return art
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
