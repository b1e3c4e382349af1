package copyjob

// State is the step a job is in; it tells what the next completion means
type State int

const (
	StateStatingDest State = iota
	StateStatingSource
	StateRenaming
	StateRenamingViaTemp
	StateRevertingTempRename
	StateListing
	StateCreatingDirs
	StateConflictCreatingDirs
	StateCopyingFiles
	StateConflictCopyingFiles
	StateDeletingDirs
	StateSettingDirAttributes
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateStatingDest:          "stating-dest",
	StateStatingSource:        "stating-source",
	StateRenaming:             "renaming",
	StateRenamingViaTemp:      "renaming-via-temp",
	StateRevertingTempRename:  "reverting-temp-rename",
	StateListing:              "listing",
	StateCreatingDirs:         "creating-dirs",
	StateConflictCreatingDirs: "conflict-creating-dirs",
	StateCopyingFiles:         "copying-files",
	StateConflictCopyingFiles: "conflict-copying-files",
	StateDeletingDirs:         "deleting-dirs",
	StateSettingDirAttributes: "setting-dir-attributes",
	StateDone:                 "done",
	StateFailed:               "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further sub-operation will be issued
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// destState classifies the destination once stated
type destState int

const (
	destNotStated destState = iota
	destDoesNotExist
	destIsDir
	destIsFile
)
