// Command salah tracks the five daily prayers and syncs the credit ledger.
package main

import "github.com/salah-ledger/salah/internal/cli"

func main() {
	cli.Execute()
}
