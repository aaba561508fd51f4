// The main package for the scraper executable.
package main

import (
	"github.com/JakeFAU/company-profile-scraper/cmd"
)

func main() {
	cmd.Execute()
}
