package service

// Client facing replies of the menu protocol
const (
	MsgMenu = "\nMenu:\n" +
		"1. Create a New Graph\n" +
		"2. Add Edge\n" +
		"3. Remove Edge\n" +
		"4. Compute MST\n" +
		"5. Get MST Weighted Longest Path\n" +
		"6. Get MST Weighted Shortest Path\n" +
		"7. Get MST Average Weight of Edge\n" +
		"8. Get MST Total Weight of Edges\n" +
		"9. Print MST\n" +
		"10. Exit\n" +
		"\nChoice: "

	MsgInvalidChoice = "Invalid choice. Please try again.\n"

	MsgAskVertices     = "Enter the number of vertices: "
	MsgInvalidVertices = "Invalid number of vertices, Exiting Graph Creation.\n"

	MsgAskAddEdge     = "Enter the source vertex, destination vertex, and edge weight separated by spaces: "
	MsgInvalidAddEdge = "Invalid input. Please enter three integers separated by spaces.\n"

	MsgAskRemoveEdge     = "Enter the source vertex, destination vertex, separated by spaces: "
	MsgInvalidRemoveEdge = "Invalid input. Please enter two integers separated by spaces.\n"

	MsgAskAlgorithm = "Choose MST algorithm:\n1. Prim's Algorithm\n2. Kruskal's Algorithm\n"

	MsgGraphNotCreated = "Graph is not created. Please create a graph first.\n"
	MsgMSTNotComputed  = "MST is not computed. Please compute MST first.\n"
	MsgNotReady        = "An earlier step has not completed yet. Please try again.\n"
	MsgShuttingDown    = "Server is shutting down.\n"
	MsgInternalError   = "Request failed. Please try again.\n"
)
