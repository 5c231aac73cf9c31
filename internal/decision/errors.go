package decision

import "errors"

// ErrNoEnglishAudio is returned when a file has audio streams but none
// of them are English-tagged or language-unlabeled. The caller
// (Transcode Runner) surfaces this as exit code 3 and records
// skip_no_english in the cache so the file is not re-probed every scan.
var ErrNoEnglishAudio = errors.New("no English or unlabeled audio")
