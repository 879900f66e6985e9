package vision

// AnalysisPrompt is the fixed instruction sent with every evidence image. The
// model is told to answer one line per highlighted vehicle in the strict
// "ID<digits>:yes/no" shape; anything else in the reply is ignored by the
// parser.
const AnalysisPrompt = `Analyze this traffic-camera snapshot. Each vehicle under review is
highlighted with a red box labelled "ID:<number>". For every labelled vehicle,
decide whether it is illegally parked or involved in an incident.

Treat the following as violations:
1. Illegal placement: blocking a tactile paving strip, parked on green space,
   blocking a fire lane or other emergency access, or standing in a no-parking
   zone such as a sidewalk or traffic lane.
2. Illegal manner of parking: disorderly parking that obstructs traffic,
   parking outside designated bays while blocking vehicles or pedestrians, or
   an abandoned vehicle occupying public space.
3. Other: illegally modified vehicles, missing or obscured plates, or a
   collision with another vehicle.

Reply with exactly one line per labelled vehicle in the form ID<number>:yes or
ID<number>:no, and nothing else. If no labelled vehicle is visible, reply
"none".`
