// Command charles runs the Charles Petrescu conversational agent.
package main

func main() {
	Execute()
}
