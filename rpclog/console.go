package rpclog

import "os"

var stdout = os.Stdout
