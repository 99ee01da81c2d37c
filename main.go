// Command copertine ingests newspaper front-page editions.
package main

import "github.com/Isagog/copertinefull/cmd"

func main() {
	cmd.Execute()
}
