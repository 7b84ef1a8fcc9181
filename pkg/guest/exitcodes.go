package guest

import "fmt"

// windowsMessages holds the system messages of common Windows error codes,
// as printed by "net helpmsg".
var windowsMessages = map[int32]string{
	1:    "Incorrect function.",
	2:    "The system cannot find the file specified.",
	3:    "The system cannot find the path specified.",
	4:    "The system cannot open the file.",
	5:    "Access is denied.",
	6:    "The handle is invalid.",
	8:    "Not enough storage is available to process this command.",
	13:   "The data is invalid.",
	14:   "Not enough storage is available to complete this operation.",
	15:   "The system cannot find the drive specified.",
	32:   "The process cannot access the file because it is being used by another process.",
	53:   "The network path was not found.",
	67:   "The network name cannot be found.",
	80:   "The file exists.",
	87:   "The parameter is incorrect.",
	109:  "The pipe has been ended.",
	112:  "There is not enough space on the disk.",
	123:  "The filename, directory name, or volume label syntax is incorrect.",
	145:  "The directory is not empty.",
	183:  "Cannot create a file when that file already exists.",
	206:  "The filename or extension is too long.",
	267:  "The directory name is invalid.",
	1223: "The operation was canceled by the user.",
	1326: "The user name or password is incorrect.",
	1460: "This operation returned because the timeout period expired.",
	1603: "Fatal error during installation.",
	1618: "Another installation is already in progress. Complete that installation before proceeding with this install.",
	1619: "This installation package could not be opened. Verify that the package exists and that you can access it, or contact the application vendor to verify that this is a valid Windows Installer package.",
	1639: "Invalid command line argument. Consult the Windows Installer SDK for detailed command line help.",
	1641: "The requested operation completed successfully. The system will be restarted so the changes can take effect.",
	3010: "The requested operation is successful. Changes will not be effective until the system is rebooted.",
}

// WindowsExitMessage translates a Windows exit code into its system message.
func WindowsExitMessage(code int32) string {
	if msg, ok := windowsMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown exit code: %d", code)
}
