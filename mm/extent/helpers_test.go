package extent

import "github.com/joshuapare/regionkit/mm/frame"

func frameNum(n uint64) frame.Number { return frame.Number(n) }
