// Command reconcile audits stored product rating aggregates against the
// reviews they were computed from.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute(os.Args[1:], os.Stdout))
}
