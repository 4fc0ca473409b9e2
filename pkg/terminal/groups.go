package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	kernelCmds
	scriptCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Viewing kernel objects", kernelCmds},
	{"Scripts, transcripts and configuration", scriptCmds},
	{"Other commands", otherCmds},
}
