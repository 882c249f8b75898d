// Command mcn runs and drives a network-controlled differential-drive node.
package main

func main() {
	Execute()
}
