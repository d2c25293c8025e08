package main

// Version is the current release, compared against the published version
// by the update checker.
const Version = "1.2.0"
